package command

import (
	"strings"
	"sync"

	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/internal/store"
	"github.com/sirupsen/logrus"
)

// Registry resolves command names to handlers with two-tier lookup: a
// bot-scoped table consulted first, then the shared global table. Names and
// aliases are case-insensitive.
type Registry struct {
	mu     sync.RWMutex
	global map[string]*Entry            // name or alias -> entry
	perBot map[string]map[string]*Entry // bot id -> (name or alias -> entry)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		global: make(map[string]*Entry),
		perBot: make(map[string]map[string]*Entry),
	}
}

// RegisterGlobal inserts a command into the shared global table. Aliases map
// to the same entry. The last registration for a colliding name wins.
func (r *Registry) RegisterGlobal(entry *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.global[normalize(entry.Name)] = entry
	for _, alias := range entry.Aliases {
		r.global[normalize(alias)] = entry
	}

	logger.WithFields(logrus.Fields{
		"command": entry.Name,
		"aliases": entry.Aliases,
	}).Debug("global-command-registered")
}

// RegisterForBot compiles a stored custom command into a handler and inserts
// it into the bot's table alongside its aliases. Compilation of the script
// body is deferred: a malformed body registers fine and fails only when
// executed.
func (r *Registry) RegisterForBot(botID string, cmd *store.CustomCommand) {
	entry := &Entry{
		Name:        cmd.Name,
		Description: cmd.Description,
		Usage:       cmd.Usage,
		Aliases:     cmd.Aliases,
		Handler:     newLuaHandler(cmd.Name, cmd.Body),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.perBot[botID]
	if !ok {
		table = make(map[string]*Entry)
		r.perBot[botID] = table
	}
	table[normalize(entry.Name)] = entry
	for _, alias := range entry.Aliases {
		table[normalize(alias)] = entry
	}

	logger.WithFields(logrus.Fields{
		"bot_id":  botID,
		"command": entry.Name,
	}).Debug("custom-command-registered")
}

// UnregisterForBot removes a command and its aliases from that bot's table.
func (r *Registry) UnregisterForBot(botID, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, ok := r.perBot[botID]
	if !ok {
		return
	}
	entry, ok := table[normalize(name)]
	if !ok {
		return
	}
	delete(table, normalize(entry.Name))
	for _, alias := range entry.Aliases {
		// Only drop aliases that still point at this entry; an alias may
		// have been overwritten by a later registration
		if table[normalize(alias)] == entry {
			delete(table, normalize(alias))
		}
	}
	if len(table) == 0 {
		delete(r.perBot, botID)
	}
}

// ClearForBot drops the entire per-bot table. Called on remove/restart so a
// re-added bot never sees stale bindings.
func (r *Registry) ClearForBot(botID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perBot, botID)
}

// Resolve looks up botID's table first, then the global table. Returns nil
// if neither has an entry; bot-specific commands shadow global ones.
func (r *Registry) Resolve(botID, name string) *Entry {
	key := normalize(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	if table, ok := r.perBot[botID]; ok {
		if entry, ok := table[key]; ok {
			return entry
		}
	}
	return r.global[key]
}

// GlobalEntries returns the distinct global command entries.
func (r *Registry) GlobalEntries() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return distinctEntries(r.global)
}

// BotEntries returns the distinct custom command entries for one bot.
func (r *Registry) BotEntries(botID string) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return distinctEntries(r.perBot[botID])
}

func distinctEntries(table map[string]*Entry) []*Entry {
	if table == nil {
		return nil
	}
	seen := make(map[*Entry]bool, len(table))
	entries := make([]*Entry, 0, len(table))
	for _, entry := range table {
		if !seen[entry] {
			seen[entry] = true
			entries = append(entries, entry)
		}
	}
	return entries
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
