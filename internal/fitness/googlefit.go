package fitness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yourname/sleepstreak/internal"
	"golang.org/x/oauth2"
)

// sleepActivityType is the Google Fit activity code for sleep sessions.
const sleepActivityType = "72"

// GoogleFitFactory creates Google Fit clients from OAuth2 access tokens
// obtained by the mobile app.
type GoogleFitFactory struct {
	BaseURL    string
	HTTPClient *http.Client
	logger     internal.Logger
}

func NewGoogleFitFactory(baseURL string, timeout time.Duration, logger internal.Logger) *GoogleFitFactory {
	return &GoogleFitFactory{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (f *GoogleFitFactory) ForToken(token string) Provider {
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, f.HTTPClient)
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
	return &GoogleFit{
		baseURL: f.BaseURL,
		client:  oauth2.NewClient(ctx, src),
		logger:  f.logger,
	}
}

type GoogleFit struct {
	baseURL string
	client  *http.Client
	logger  internal.Logger
}

type sessionList struct {
	Session []struct {
		ID              string `json:"id"`
		StartTimeMillis int64  `json:"startTimeMillis,string"`
		EndTimeMillis   int64  `json:"endTimeMillis,string"`
	} `json:"session"`
}

// Authorize checks that the token can read sleep data.
func (g *GoogleFit) Authorize(ctx context.Context) (bool, error) {
	q := url.Values{"dataTypeName": {"com.google.sleep.segment"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/users/me/dataSources?"+q.Encode(), nil)
	if err != nil {
		return false, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Errorf("google fit: authorize request failed: %v", err)
		return false, fmt.Errorf("%w: %v", internal.ErrProvider, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		g.logger.Warnf("google fit: authorization rejected with %d", resp.StatusCode)
		return false, nil
	default:
		return false, fmt.Errorf("%w: authorize returned %d", internal.ErrProvider, resp.StatusCode)
	}
}

// QuerySleep lists sleep sessions overlapping [start, end].
func (g *GoogleFit) QuerySleep(ctx context.Context, start, end time.Time) ([]Interval, error) {
	q := url.Values{
		"startTime":    {start.UTC().Format(time.RFC3339)},
		"endTime":      {end.UTC().Format(time.RFC3339)},
		"activityType": {sleepActivityType},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/users/me/sessions?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internal.ErrProvider, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: sessions returned %d", internal.ErrProvider, resp.StatusCode)
	}

	var body sessionList
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decoding sessions: %v", internal.ErrProvider, err)
	}

	out := make([]Interval, 0, len(body.Session))
	for _, s := range body.Session {
		out = append(out, Interval{
			Start: time.UnixMilli(s.StartTimeMillis).UTC(),
			End:   time.UnixMilli(s.EndTimeMillis).UTC(),
		})
	}
	return out, nil
}

var _ Provider = (*GoogleFit)(nil)
var _ Factory = (*GoogleFitFactory)(nil)
