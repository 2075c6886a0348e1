package api

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adaptivelb/server/pkg/auth"
	"github.com/adaptivelb/server/pkg/decision"
	"github.com/adaptivelb/server/pkg/rate"
	"github.com/adaptivelb/server/pkg/store"
)

type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type userKey struct{}

// userFrom returns the user that made the request, if it carried a valid bearer token.
func userFrom(ctx context.Context) (store.User, bool) {
	user, ok := ctx.Value(userKey{}).(store.User)
	return user, ok
}

// observe accounts every request in the traffic counters and records it.
// Before reaching next, the request is checked against the decision policy and the rate limiter:
// blocked requests get a 403, throttled ones a 429.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.traffic.Begin()

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		ip := s.clientIP(r)
		agent := r.UserAgent()

		user, authenticated := s.authenticate(r)
		if authenticated {
			r = r.WithContext(context.WithValue(r.Context(), userKey{}, user))
		}

		verdict := s.decider.Decide(ip, agent, r.URL.Path)
		switch {
		case verdict == decision.Blocked:
			s.fail(sw, http.StatusForbidden, "Request blocked by policy")

		case !s.allow(ip, r.URL.Path):
			verdict = decision.Throttled
			sw.Header().Set("Retry-After", retryAfter(s.limiter.Interval()))
			s.fail(sw, http.StatusTooManyRequests, "Too many requests from this IP, please try again later")

		default:
			next.ServeHTTP(sw, r)
		}

		elapsed := time.Since(start)
		route := r.Pattern
		if route == "" || route == "/" {
			route = "unmatched"
		}
		s.traffic.End(r.Method, route, sw.status, elapsed)

		request := store.Request{
			Timestamp:    store.Timestamp(start),
			IP:           ip,
			Method:       r.Method,
			Endpoint:     r.URL.Path,
			Status:       sw.status,
			Device:       device(agent),
			Source:       source(r.Referer()),
			Bytes:        sw.bytes,
			Decision:     verdict,
			ResponseTime: elapsed.Milliseconds(),
			UserAgent:    agent,
		}

		if authenticated {
			request.UserEmail = user.Email
			request.UserID = strconv.FormatInt(user.ID, 10)
		}
		if s.locator != nil {
			request.Country = s.locator.Country(ip)
		}
		s.recorder.RecordRequest(request)
	})
}

func (s *Server) authenticate(r *http.Request) (store.User, bool) {
	token, ok := auth.BearerToken(r.Header.Get("Authorization"))
	if !ok {
		return store.User{}, false
	}

	user, err := s.auth.Authenticate(r.Context(), token)
	if err != nil {
		return store.User{}, false
	}
	return user, true
}

func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := userFrom(r.Context()); !ok {
			w.Header().Set("WWW-Authenticate", `Bearer realm="dashboard"`)
			s.fail(w, http.StatusUnauthorized, "You are not logged in")
			return
		}
		next(w, r)
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireUser(func(w http.ResponseWriter, r *http.Request) {
		if user, _ := userFrom(r.Context()); user.Role != store.RoleAdmin {
			s.fail(w, http.StatusForbidden, "You do not have permission to perform this action")
			return
		}
		next(w, r)
	})
}

// clientIP returns the IP of the client, which is the first entry of X-Forwarded-For
// when the server trusts the proxy in front of it.
func (s *Server) clientIP(r *http.Request) string {
	if s.config.TrustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// allow reports whether the client can afford a request to the path.
// Health checks and counters are free, authentication is expensive.
func (s *Server) allow(ip, path string) bool {
	switch {
	case path == "/api/v1/health" || path == "/api/v1/metrics":
		return true
	case strings.HasPrefix(path, "/api/v1/auth/"):
		return s.limiter.Allow(ip, rate.CostAuth)
	default:
		return s.limiter.Allow(ip, rate.CostRead)
	}
}

func retryAfter(interval time.Duration) string {
	return strconv.Itoa(max(1, int(interval.Seconds())))
}

// device guesses the platform of the client from its user agent.
func device(agent string) string {
	agent = strings.ToLower(agent)
	switch {
	case agent == "":
		return "Unknown"
	case strings.Contains(agent, "iphone") || strings.Contains(agent, "ipad"):
		return "iOS"
	case strings.Contains(agent, "android"):
		return "Android"
	case strings.Contains(agent, "windows"):
		return "Windows"
	case strings.Contains(agent, "macintosh") || strings.Contains(agent, "mac os"):
		return "MacOS"
	case strings.Contains(agent, "linux"):
		return "Linux"
	default:
		return "Unknown"
	}
}

// referrers maps the second level domain of a referer to its traffic source.
var referrers = map[string]string{
	"google":   "Google",
	"facebook": "Facebook",
	"twitter":  "Twitter",
	"t":        "Twitter", // t.co
	"x":        "Twitter",
	"linkedin": "LinkedIn",
	"github":   "GitHub",
}

// source returns where the client comes from, based on the Referer header.
func source(referer string) string {
	u, err := url.Parse(referer)
	if err != nil || u.Hostname() == "" {
		return "Direct"
	}

	labels := strings.Split(strings.ToLower(u.Hostname()), ".")
	if len(labels) < 2 {
		return "Direct"
	}

	// www.google.com, google.co.uk
	domain := labels[len(labels)-2]
	if (domain == "co" || domain == "com") && len(labels) > 2 {
		domain = labels[len(labels)-3]
	}

	if src, ok := referrers[domain]; ok {
		return src
	}
	return "Direct"
}
