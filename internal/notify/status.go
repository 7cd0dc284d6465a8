package notify

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// StatusClient reports agent status changes to an external endpoint.
// Calls are best-effort: failures are logged and never retried.
type StatusClient struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewStatusClient(baseURL string, logger zerolog.Logger) *StatusClient {
	return &StatusClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// NotifyTakeAlong pings the take-along status endpoint for a directory
// number after logout. The response is ignored.
func (s *StatusClient) NotifyTakeAlong(thisDN string) {
	if s.baseURL == "" {
		return
	}
	url := fmt.Sprintf("%s/application/is_pta/%s", s.baseURL, thisDN)

	resp, err := s.httpClient.Get(url)
	if err != nil {
		s.logger.Debug().Err(err).Str("url", url).Msg("Take-along status notification failed")
		return
	}
	resp.Body.Close()

	s.logger.Debug().
		Str("this_dn", thisDN).
		Int("status", resp.StatusCode).
		Msg("Take-along status notified")
}
