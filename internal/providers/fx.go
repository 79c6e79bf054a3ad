package providers

import (
	"github.com/smallbiznis/microsaas/internal/providers/completion"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	completion.Module,
)
