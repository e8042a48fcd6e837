package entitlement

import (
	"github.com/railzwaylabs/insightpass/internal/entitlement/repository"
	"github.com/railzwaylabs/insightpass/internal/entitlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("entitlement",
	fx.Provide(repository.New),
	fx.Provide(service.NewAccessResolver),
	fx.Provide(service.NewAssigner),
)
