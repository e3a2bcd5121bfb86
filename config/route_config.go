package config

// RouteConfig is the application route surface the session manager needs to
// know about: where recovery links land, and where to send users after
// authentication or verification. The shell owns actual navigation.
type RouteConfig interface {
	GetResetPasswordRoute() string
	GetLandingRoute() string
	GetVerificationSuccessRoute() string
	GetLoginRoute() string
}

type Routes struct{}

var _ RouteConfig = Routes{}

func (Routes) GetResetPasswordRoute() string {
	return GetEnv("RESET_PASSWORD_ROUTE", "/auth/reset-password")
}

func (Routes) GetLandingRoute() string {
	return GetEnv("LANDING_ROUTE", "/dashboard")
}

func (Routes) GetVerificationSuccessRoute() string {
	return GetEnv("VERIFICATION_SUCCESS_ROUTE", "/auth/verification-success")
}

func (Routes) GetLoginRoute() string {
	return GetEnv("LOGIN_ROUTE", "/")
}
