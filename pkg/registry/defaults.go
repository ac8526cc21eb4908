package registry

import (
	"github.com/dukex/concord/pkg/plugins/httprequest"
	"github.com/dukex/concord/pkg/plugins/log"
	"github.com/dukex/concord/pkg/plugins/transform"
)

// RegisterDefaultPlugins registers all built-in plugins with the registry.
func (r *Registry) RegisterDefaultPlugins() {
	r.Register(log.New())
	r.Register(transform.New())
	r.Register(httprequest.New(nil))
}
