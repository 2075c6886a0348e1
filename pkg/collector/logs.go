package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/adaptivelb/server/pkg/store"
)

const generatorAgent = "Random-Log-Generator/1.0"

var (
	logLevels = []string{store.LevelInfo, store.LevelWarning, store.LevelError, store.LevelDebug, store.LevelSuccess}

	logEndpoints = []string{
		"/api/users",
		"/api/products",
		"/api/orders",
		"/api/auth/login",
		"/api/auth/logout",
		"/api/dashboard",
		"/api/settings",
		"/api/reports",
		"/api/notifications",
		"/api/search",
	}

	logMethods  = []string{"GET", "POST", "PUT", "DELETE", "PATCH"}
	logStatuses = []int{200, 201, 204, 301, 400, 401, 403, 404, 500, 502, 503}

	logMessages = []string{
		"Request processed successfully",
		"User authentication completed",
		"Database query executed",
		"Cache hit for resource",
		"Cache miss, fetching from database",
		"Rate limit threshold approaching",
		"Slow query detected",
		"Connection pool exhausted",
		"Upstream service timeout",
		"Invalid request payload",
		"Session expired",
		"Resource not found",
		"Backend health check passed",
		"Load balancer rerouted traffic",
		"Configuration reloaded",
	}
)

// GenerateLog saves a synthetic log entry describing a fake request.
func (c *Engine) GenerateLog(ctx context.Context) {
	c.store.SaveLog(ctx, randomLog(time.Now()))
}

func randomLog(now time.Time) store.Log {
	method := pick(logMethods)
	endpoint := pick(logEndpoints)
	status := pick(logStatuses)
	responseTime := between(50, 2049)
	timestamp := store.Timestamp(now)

	return store.Log{
		Level:     pick(logLevels),
		Message:   fmt.Sprintf("%s %s - %s (%dms)", method, endpoint, pick(logMessages), responseTime),
		Timestamp: timestamp,
		Metadata: map[string]any{
			"method":       method,
			"endpoint":     endpoint,
			"status":       status,
			"ip":           randomIP(),
			"responseTime": responseTime,
			"timestamp":    timestamp,
			"userAgent":    generatorAgent,
		},
	}
}
