package executor

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// LogInvoker is the default call surface for deployments where settlement
// happens off-process: it records the would-be call and reports success. A
// real chain-backed Invoker replaces it at wiring time.
type LogInvoker struct {
	logger *slog.Logger
}

// NewLogInvoker constructs a logging invoker.
func NewLogInvoker(logger *slog.Logger) *LogInvoker {
	return &LogInvoker{logger: logger}
}

func (i *LogInvoker) Invoke(ctx context.Context, target common.Address, value *big.Int, payload []byte) error {
	if i.logger != nil {
		i.logger.InfoContext(ctx, "external call invoked",
			"target", target.Hex(),
			"value", value.String(),
			"payload_bytes", len(payload),
		)
	}
	return nil
}
