package server

import (
	"time"

	"github.com/dotside-studios/rfid-reader-agent/buildinfo"
)

// mDNS service discovery constants
var (
	MDNSServiceType = "_rfid-agent._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// HTTP routes
const (
	RouteWebSocket = "/ws"
	RouteHealth    = "/api/v1/health"
	RouteStatus    = "/api/v1/status"
	RouteCACert    = "/ca.pem"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, POST, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)

const (
	// DefaultCommandTimeout bounds a single bridge command. Connect returns
	// once an attempt has started, so this only covers discovery refresh and
	// queueing on the controller.
	DefaultCommandTimeout = 10 * time.Second

	writeTimeout    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)
