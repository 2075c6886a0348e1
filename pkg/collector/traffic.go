package collector

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/adaptivelb/server/pkg/decision"
	"github.com/adaptivelb/server/pkg/store"
)

var (
	trafficMethods = newWeighted(
		[]string{"GET", "POST", "PUT", "DELETE", "PATCH"},
		[]int{40, 30, 15, 10, 5},
	)

	trafficStatuses = newWeighted(
		[]int{200, 201, 204, 301, 302, 400, 401, 403, 404, 500, 503},
		[]int{50, 10, 5, 5, 10, 5, 5, 5, 3, 1, 1},
	)

	// decisions applied to the requests the policy allows
	trafficDecisions = newWeighted(
		[]string{decision.Allowed, decision.Blocked, decision.Redirected, decision.Throttled},
		[]int{70, 15, 10, 5},
	)

	trafficEndpoints = []string{
		"/",
		"/api/v1/dashboard",
		"/api/v1/users",
		"/api/v1/products",
		"/api/v1/orders",
		"/api/v1/auth/login",
		"/api/v1/search",
		"/api/v1/settings",
		"/static/app.js",
		"/static/styles.css",
		"/health",
	}

	trafficDevices = []string{"Windows", "MacOS", "iOS", "Android", "Linux"}
	trafficSources = []string{"Direct", "Google", "Facebook", "Twitter", "LinkedIn", "GitHub"}

	trafficAgents = map[string]string{
		"Windows": "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
		"MacOS":   "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
		"iOS":     "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148",
		"Android": "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Mobile Safari/537.36",
		"Linux":   "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	}
)

// userShare is the share of synthetic requests attributed to a signed in user.
const userShare = 0.3

// GenerateRequest saves a synthetic request.
func (c *Engine) GenerateRequest(ctx context.Context) {
	c.store.SaveRequest(ctx, c.randomRequest(time.Now()))
}

func (c *Engine) randomRequest(now time.Time) store.Request {
	device := pick(trafficDevices)
	r := store.Request{
		Timestamp:    store.Timestamp(now),
		IP:           randomIP(),
		Method:       trafficMethods.Pick(),
		Endpoint:     pick(trafficEndpoints),
		Status:       trafficStatuses.Pick(),
		Device:       device,
		Source:       pick(trafficSources),
		Bytes:        int64(between(500, 50499)),
		ResponseTime: int64(between(50, 2049)),
		UserAgent:    trafficAgents[device],
	}

	r.Decision = c.decider.Decide(r.IP, r.UserAgent, r.Endpoint)
	if r.Decision == decision.Allowed {
		r.Decision = trafficDecisions.Pick()
	}

	if rand.Float64() < userShare {
		id := between(1, 100)
		r.UserID = strconv.Itoa(id)
		r.UserEmail = fmt.Sprintf("user%d@example.com", id)
	}
	return r
}
