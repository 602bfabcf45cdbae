package config

import "github.com/tracekit/tracekit/log"

// migrateLegacyTask converts the attacker/defenders layout. Legacy tasks have
// no name, the attacker command stands in for it.
func migrateLegacyTask(r rawTask) Task {
	t := Task{Filter: r.Filter}
	if r.Attacker != nil {
		t.Name = r.Attacker.Command
		t.Command = r.Attacker.Command
		t.LocalConfigure = r.Attacker.Configure
	}
	for _, d := range r.Defenders {
		t.Configuration = append(t.Configuration, HostStep{Host: d.IP, Command: d.Configure})
	}
	log.Tracef("Migrated legacy task %q (%d defenders)", t.Name, len(r.Defenders))
	return t
}
