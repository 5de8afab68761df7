package session

import (
	"fmt"

	"github.com/c360/chatsession/filter"
	"github.com/c360/chatsession/message"
)

// builtinFilters publish the answers to the help, version and about commands
// every peer understands.
func (s *Session) builtinFilters() []*filter.Filter {
	return []*filter.Filter{
		filter.CommandResponse(message.CommandHelp, func(env *message.Envelope) {
			raw, ok := env.GetMap(message.FieldHelp)
			if !ok {
				s.logger.Warn("Help response without help map", "tag", env.Tag)
				return
			}
			help := make(map[string]string, len(raw))
			for k, v := range raw {
				help[k] = fmt.Sprint(v)
			}
			s.pub.Publish(KeyHelp, help)
		}),
		filter.CommandResponse(message.CommandVersion, func(env *message.Envelope) {
			version, _ := env.GetString(message.FieldVersion)
			s.pub.Publish(KeyVersion, version)
		}),
		filter.CommandResponse(message.CommandAbout, func(env *message.Envelope) {
			about, _ := env.GetString(message.FieldAbout)
			s.pub.Publish(KeyAbout, about)
		}),
	}
}
