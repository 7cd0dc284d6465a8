package domain

// Notifier is the single seam through which user-visible messages leave
// the engine. Hosts override it to present warnings their own way.
type Notifier func(msg string)
