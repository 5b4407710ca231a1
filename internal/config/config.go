// Package config loads the environment-driven configuration for both the
// orchestrator process and the robot agent process, following the teacher's
// hand-rolled env-var loader pattern rather than a struct-tag framework.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yungbote/rpa-orchestrator/internal/rpaerrors"
)

// Orchestrator holds every knob the orchestrator engine needs at startup.
type Orchestrator struct {
	PostgresURL         string
	ListenAddr          string
	Environment         string
	LogMode             string
	RedisAddr           string
	RedisChannelPrefix  string
	DispatchInterval    time.Duration
	HealthCheckInterval time.Duration
	StaleTimeout        time.Duration
	VisibilityTimeout   time.Duration
	JobTimeout          time.Duration
	DedupWindow         time.Duration
	GracefulShutdown    time.Duration
	SubscribeTimeout    time.Duration
	PresenceInterval    time.Duration
	ReconnectDelay      time.Duration
	ReconnectMultiplier float64
	MaxReconnectDelay   time.Duration

	APIKeyRequired bool
	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string
}

// Robot holds every knob a robot agent process needs at startup.
type Robot struct {
	RobotName         string
	RobotID           string
	ControlPlaneURL   string
	APIKey            string
	Environment       string
	LogMode           string
	PostgresURL       string
	HeartbeatInterval time.Duration
	PresenceInterval  time.Duration
	PollInterval      time.Duration
	SubscribeTimeout  time.Duration
	MaxConcurrentJobs int
	Capabilities      []string
	Tags              []string
	JobTimeout        time.Duration
	VisibilityTimeout time.Duration
	ContinueOnError   bool
	VerifySSL         bool

	CACertPath     string
	ClientCertPath string
	ClientKeyPath  string

	ReconnectDelay      time.Duration
	ReconnectMultiplier float64
	MaxReconnectDelay   time.Duration

	GracefulShutdown time.Duration
}

// LoadOrchestrator reads the orchestrator-side environment block described
// in spec.md §6 plus the dispatch/health/timeout knobs from §4. It fails
// fast with rpaerrors.ErrConfiguration on any inconsistency.
func LoadOrchestrator() (*Orchestrator, error) {
	c := &Orchestrator{
		PostgresURL:         str("POSTGRES_URL", ""),
		ListenAddr:          str("LISTEN_ADDR", ":8080"),
		Environment:         str("ENVIRONMENT", "default"),
		LogMode:             str("LOG_MODE", "development"),
		RedisAddr:           str("REDIS_ADDR", ""),
		RedisChannelPrefix:  str("REDIS_CHANNEL_PREFIX", "rpa"),
		DispatchInterval:    dur("DISPATCH_INTERVAL", 5*time.Second),
		HealthCheckInterval: dur("HEALTH_CHECK_INTERVAL", 30*time.Second),
		StaleTimeout:        dur("STALE_TIMEOUT", 60*time.Second),
		VisibilityTimeout:   dur("VISIBILITY_TIMEOUT", 30*time.Second),
		JobTimeout:          dur("JOB_TIMEOUT", 3600*time.Second),
		DedupWindow:         dur("DEDUP_WINDOW_SECONDS", 300*time.Second),
		GracefulShutdown:    dur("GRACEFUL_SHUTDOWN_SECONDS", 60*time.Second),
		SubscribeTimeout:    dur("SUBSCRIBE_TIMEOUT", 5*time.Second),
		PresenceInterval:    dur("PRESENCE_INTERVAL", 5*time.Second),
		ReconnectDelay:      dur("RECONNECT_DELAY", 1*time.Second),
		ReconnectMultiplier: flt("RECONNECT_MULTIPLIER", 2.0),
		MaxReconnectDelay:   dur("MAX_RECONNECT_DELAY", 60*time.Second),
		CACertPath:          str("CA_CERT_PATH", ""),
		ClientCertPath:      str("CLIENT_CERT_PATH", ""),
		ClientKeyPath:       str("CLIENT_KEY_PATH", ""),
	}
	if c.PostgresURL == "" {
		return nil, rpaerrors.Wrap("LoadOrchestrator", rpaerrors.ErrConfiguration, errMissing("POSTGRES_URL"))
	}
	if err := validateMTLSTriple(c.CACertPath, c.ClientCertPath, c.ClientKeyPath); err != nil {
		return nil, rpaerrors.Wrap("LoadOrchestrator", rpaerrors.ErrConfiguration, err)
	}
	return c, nil
}

// LoadRobot reads the robot-agent environment block from spec.md §6.
func LoadRobot() (*Robot, error) {
	apiKey := str("API_KEY", "")
	c := &Robot{
		RobotName:           str("ROBOT_NAME", ""),
		RobotID:             str("ROBOT_ID", ""),
		ControlPlaneURL:     str("CONTROL_PLANE_URL", ""),
		APIKey:              apiKey,
		Environment:         str("ENVIRONMENT", "default"),
		LogMode:             str("LOG_MODE", "development"),
		PostgresURL:         str("POSTGRES_URL", ""),
		HeartbeatInterval:   dur("HEARTBEAT_INTERVAL", 10*time.Second),
		PresenceInterval:    dur("PRESENCE_INTERVAL", 5*time.Second),
		PollInterval:        dur("POLL_INTERVAL", 1*time.Second),
		SubscribeTimeout:    dur("SUBSCRIBE_TIMEOUT", 5*time.Second),
		MaxConcurrentJobs:   integer("MAX_CONCURRENT_JOBS", 4),
		Capabilities:        csv("CAPABILITIES"),
		Tags:                csv("TAGS"),
		JobTimeout:          dur("JOB_TIMEOUT", 3600*time.Second),
		VisibilityTimeout:   dur("VISIBILITY_TIMEOUT", 30*time.Second),
		ContinueOnError:     boolean("CONTINUE_ON_ERROR", false),
		VerifySSL:           boolean("VERIFY_SSL", true),
		CACertPath:          str("CA_CERT_PATH", ""),
		ClientCertPath:      str("CLIENT_CERT_PATH", ""),
		ClientKeyPath:       str("CLIENT_KEY_PATH", ""),
		ReconnectDelay:      dur("RECONNECT_DELAY", 1*time.Second),
		ReconnectMultiplier: flt("RECONNECT_MULTIPLIER", 2.0),
		MaxReconnectDelay:   dur("MAX_RECONNECT_DELAY", 60*time.Second),
		GracefulShutdown:    dur("GRACEFUL_SHUTDOWN_SECONDS", 60*time.Second),
	}
	if c.RobotID == "" {
		return nil, rpaerrors.Wrap("LoadRobot", rpaerrors.ErrConfiguration, errMissing("ROBOT_ID"))
	}
	if c.PostgresURL == "" {
		return nil, rpaerrors.Wrap("LoadRobot", rpaerrors.ErrConfiguration, errMissing("POSTGRES_URL"))
	}
	if err := validateMTLSTriple(c.CACertPath, c.ClientCertPath, c.ClientKeyPath); err != nil {
		return nil, rpaerrors.Wrap("LoadRobot", rpaerrors.ErrConfiguration, err)
	}
	mtls := c.CACertPath != "" && c.ClientCertPath != "" && c.ClientKeyPath != ""
	if !mtls {
		if !strings.HasPrefix(apiKey, "crpa_") || len(apiKey) < 40 {
			return nil, rpaerrors.Wrap("LoadRobot", rpaerrors.ErrConfiguration, errAPIKeyShape())
		}
	}
	if c.MaxConcurrentJobs <= 0 {
		return nil, rpaerrors.Wrap("LoadRobot", rpaerrors.ErrConfiguration, errMissing("MAX_CONCURRENT_JOBS"))
	}
	return c, nil
}

func validateMTLSTriple(ca, cert, key string) error {
	present := 0
	for _, v := range []string{ca, cert, key} {
		if v != "" {
			present++
		}
	}
	if present != 0 && present != 3 {
		return errPartialMTLS()
	}
	return nil
}

func str(name, def string) string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	return v
}

func integer(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func flt(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func dur(name string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

func boolean(name string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func csv(name string) []string {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
