package session

// Route is a portal destination.
type Route string

const (
	RouteLogin        Route = "/login"
	RouteAdmin        Route = "/admin"
	RouteSEO          Route = "/seo"
	RouteTeam         Route = "/team"
	RouteClientPortal Route = "/client-portal"
	RouteHome         Route = "/"
)

// Navigator performs the hard redirect at the end of an auth transition.
type Navigator interface {
	Navigate(route Route)
}

// NavigatorFunc adapts a func to Navigator.
type NavigatorFunc func(Route)

func (f NavigatorFunc) Navigate(r Route) { f(r) }

// RouteForRole is the one place role strings turn into a destination.
// Both the login coordinator and any other redirect site go through it.
func RouteForRole(role, teamRole string) Route {
	switch {
	case role == "admin":
		return RouteAdmin
	case role == "seo" || teamRole == "SEO Expert":
		return RouteSEO
	case role == "team":
		return RouteTeam
	case role == "customer" || role == "client":
		return RouteClientPortal
	default:
		return RouteHome
	}
}
