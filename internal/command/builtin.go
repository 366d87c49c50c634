package command

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// RegisterBuiltins installs the global built-in commands. started is the
// process start time used by ping/uptime output.
func RegisterBuiltins(r *Registry, started time.Time) {
	r.RegisterGlobal(&Entry{
		Name:        "ping",
		Description: "Check if the bot is responsive and get latency",
		Usage:       "ping",
		Aliases:     []string{"p", "test"},
		Handler:     pingHandler(started),
	})
	r.RegisterGlobal(&Entry{
		Name:        "echo",
		Description: "Repeats your message back to you",
		Usage:       "echo <message>",
		Aliases:     []string{"say", "repeat"},
		Handler:     HandlerFunc(echoHandler),
	})
	r.RegisterGlobal(&Entry{
		Name:        "uptime",
		Description: "Show how long the supervisor has been running",
		Usage:       "uptime",
		Handler:     uptimeHandler(started),
	})
	r.RegisterGlobal(&Entry{
		Name:        "help",
		Description: "Show all available commands",
		Usage:       "help [command]",
		Aliases:     []string{"h", "commands"},
		Handler:     helpHandler(r),
	})
}

func pingHandler(started time.Time) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) error {
		begin := time.Now()
		if err := inv.API.Send("🏓 Pinging...", inv.Event.ThreadID, ""); err != nil {
			return err
		}
		latency := time.Since(begin)

		response := fmt.Sprintf("🤖 Bot Status\n\n"+
			"✅ Status: Online\n"+
			"⚡ Latency: %dms\n"+
			"⏱️ Uptime: %s", latency.Milliseconds(), formatUptime(time.Since(started)))
		return inv.API.Send(response, inv.Event.ThreadID, "")
	}
}

func echoHandler(ctx context.Context, inv *Invocation) error {
	if len(inv.Args) == 0 {
		return inv.API.Send("❌ Please provide a message to echo!\n\nUsage: "+
			inv.Config.Prefix+"echo <message>", inv.Event.ThreadID, inv.Event.MessageID)
	}
	return inv.API.Send("🔊 "+strings.Join(inv.Args, " "), inv.Event.ThreadID, inv.Event.MessageID)
}

func uptimeHandler(started time.Time) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) error {
		return inv.API.Send("⏱️ Uptime: "+formatUptime(time.Since(started)), inv.Event.ThreadID, inv.Event.MessageID)
	}
}

func helpHandler(r *Registry) HandlerFunc {
	return func(ctx context.Context, inv *Invocation) error {
		prefix := inv.Config.Prefix

		// Detail view for a single command
		if len(inv.Args) > 0 {
			name := inv.Args[0]
			entry := r.Resolve(inv.Config.BotID, name)
			if entry == nil {
				return inv.API.Send(fmt.Sprintf("❌ Command %q not found.", name),
					inv.Event.ThreadID, inv.Event.MessageID)
			}
			response := fmt.Sprintf("📖 Command: %s\n\n📝 Description: %s\n💡 Usage: %s%s",
				entry.Name, orDefault(entry.Description, "No description"),
				prefix, orDefault(entry.Usage, entry.Name))
			if len(entry.Aliases) > 0 {
				response += "\n🔗 Aliases: " + strings.Join(entry.Aliases, ", ")
			}
			return inv.API.Send(response, inv.Event.ThreadID, inv.Event.MessageID)
		}

		entries := r.GlobalEntries()
		entries = append(entries, r.BotEntries(inv.Config.BotID)...)
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

		var b strings.Builder
		b.WriteString("📚 Available Commands\n━━━━━━━━━━━━━━━━━\n\n")
		for _, entry := range entries {
			b.WriteString("• " + prefix + entry.Name)
			if entry.Description != "" {
				b.WriteString(" - " + entry.Description)
			}
			b.WriteString("\n")
		}
		b.WriteString("\n━━━━━━━━━━━━━━━━━\n💡 Type " + prefix + "help [command] for more info")

		return inv.API.Send(b.String(), inv.Event.ThreadID, inv.Event.MessageID)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
