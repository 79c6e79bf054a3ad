package grant

import (
	"github.com/smallbiznis/microsaas/internal/grant/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("grant.repository",
	fx.Provide(repository.Provide),
)
