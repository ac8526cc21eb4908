// Package engine resolves actions on approval workflow instances.
package engine

import (
	"log/slog"

	"github.com/dukex/concord/pkg/models"
	"github.com/dukex/concord/pkg/operators"
	"github.com/dukex/concord/pkg/protocol"
)

// Config holds the collaborators of an Engine. It is built once at startup.
type Config struct {
	Directory    operators.Directory
	Restrictions *operators.Restrictions
	Plugins      protocol.PluginLookup
	Logger       *slog.Logger

	// RetrieveResetAll makes RETRIEVE reset every approval of the retrieved
	// node instead of only the retriever's. ExtendParam.ResetAll overrides it.
	RetrieveResetAll bool
}

// Engine dispatches actions to strategies. It holds no instance state and
// is safe for concurrent use once built.
type Engine struct {
	directory        operators.Directory
	restrictions     *operators.Restrictions
	plugins          protocol.PluginLookup
	logger           *slog.Logger
	retrieveResetAll bool

	nodes      map[models.NodeType]NodeBehavior
	resolvers  map[models.ApprovalType]Resolver
	strategies map[models.Action]Strategy
}

// New builds an engine. Missing collaborators fall back to the defaults.
func New(cfg Config) *Engine {
	e := &Engine{
		directory:        cfg.Directory,
		restrictions:     cfg.Restrictions,
		plugins:          cfg.Plugins,
		logger:           cfg.Logger,
		retrieveResetAll: cfg.RetrieveResetAll,
	}

	if e.directory == nil {
		e.directory = operators.NewDefaultDirectory(nil)
	}

	if e.restrictions == nil {
		e.restrictions = operators.DefaultRestrictions()
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}

	e.logger = e.logger.With("module", "engine")

	e.nodes = defaultNodeBehaviors(e.directory)
	e.resolvers = defaultResolvers()
	e.strategies = defaultStrategies()

	return e
}
