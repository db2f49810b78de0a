package impersonation

import (
	authdomain "github.com/smallbiznis/tenantry/internal/auth/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("impersonation",
	fx.Provide(NewSigner),
	fx.Provide(NewMarkerCookie),
	fx.Provide(func(repo authdomain.Repository) UserReader { return repo }),
	fx.Provide(NewGuard),
)
