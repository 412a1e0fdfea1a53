package strava

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/harrisonrobin/gpxstrava/pkg/reconcile"
)

type activity struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	SportType   string    `json:"sport_type"`
	StartDate   time.Time `json:"start_date"`
	ElapsedTime int64     `json:"elapsed_time"`
	StartLatLng []float64 `json:"start_latlng"`
}

// ListAllActivities fetches every activity of the authenticated athlete,
// one page at a time until an empty page comes back.
func (c *Client) ListAllActivities(ctx context.Context) ([]reconcile.RemoteActivity, error) {
	c.logger.Info().Msg("fetching all athlete activities")

	var out []reconcile.RemoteActivity
	for page := 1; ; page++ {
		var batch []activity
		err := c.do(ctx, func(ctx context.Context) (*http.Request, error) {
			q := url.Values{}
			q.Set("page", strconv.Itoa(page))
			q.Set("per_page", strconv.Itoa(c.pageSize))
			return http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/athlete/activities?"+q.Encode(), nil)
		}, &batch)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		c.logger.Debug().Int("page", page).Int("count", len(batch)).Msg("fetched activity page")
		for _, a := range batch {
			out = append(out, reconcile.RemoteActivity{
				ID:             a.ID,
				Name:           a.Name,
				SportType:      a.SportType,
				Start:          a.StartDate.UTC(),
				ElapsedSeconds: a.ElapsedTime,
				StartLatLng:    a.StartLatLng,
			})
		}
	}

	c.logger.Info().Int("total", len(out)).Msg("fetched athlete activities")
	return out, nil
}
