package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	RouteIndex = "/{$}"

	// Auth Routes - Login & Logout
	RouteAuthLogin    = "/auth/login"
	RouteAuthRedirect = "/auth/redirect"
	RouteAuthLogout   = "/auth/logout"

	// API Routes
	RouteAPIUserInformation = "/api/user_information"
	RouteAPIWriteData       = "/api/write_data"

	// Operational Routes
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"

	// Static Page Routes (patterns)
	RoutePages = "/pages/{file}"
	PageHome   = "/pages/home.html"
)
