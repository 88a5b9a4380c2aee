package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/gps"
	"github.com/relabs-tech/step_computer/internal/mqtt"
	"github.com/relabs-tech/step_computer/internal/session"
)

var (
	tagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
	startStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#C89A3A")).Bold(true)
	endStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#52C41A")).Bold(true)
	countStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#B8B8B8"))
	voidStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
)

// consoleView prints step events and GPS fixes as styled lines.
type consoleView struct {
	eventsTopic string

	mu  sync.Mutex
	out io.Writer
}

func newConsoleView(eventsTopic string, out io.Writer) *consoleView {
	return &consoleView{eventsTopic: eventsTopic, out: out}
}

func (v *consoleView) println(line string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fmt.Fprintln(v.out, line)
}

func (v *consoleView) handleEvent(topic string, payload []byte) error {
	var res session.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("console: event unmarshal: %w", err)
	}
	id := strings.TrimPrefix(topic, v.eventsTopic+"/")
	v.println(formatEvent(id, res))
	return nil
}

func (v *consoleView) handleFix(_ string, payload []byte) error {
	var fix gps.Fix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return fmt.Errorf("console: fix unmarshal: %w", err)
	}
	v.println(formatFix(fix))
	return nil
}

func formatEvent(sessionID string, r session.Result) string {
	mark := mutedStyle.Render("  -  ")
	switch {
	case r.StepStart:
		mark = startStyle.Render("START")
	case r.StepEnd:
		mark = endStyle.Render(" END ")
	}
	return fmt.Sprintf("%s %-10s %s  steps=%s  p_start=%.3f  p_end=%.3f",
		tagStyle.Render("[STEP]"),
		sessionID,
		mark,
		countStyle.Render(fmt.Sprintf("%4d", r.StepCount)),
		r.StartProbability,
		r.EndProbability,
	)
}

func formatFix(f gps.Fix) string {
	if !f.Valid() {
		return fmt.Sprintf("%s %s", tagStyle.Render("[GPS] "), voidStyle.Render("no fix"))
	}
	return fmt.Sprintf("%s %s %s  lat=%.6f lon=%.6f  speed=%.1fkn",
		tagStyle.Render("[GPS] "), f.Date, f.Time, f.Latitude, f.Longitude, f.SpeedKnots)
}

// RunConsoleMQTT prints every session's step events and GPS fixes until ctx is done.
func RunConsoleMQTT(ctx context.Context, cfg *config.Config, out io.Writer, log *zap.Logger) error {
	client, err := mqtt.Connect(mqtt.Options{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientIDConsole}, log)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	view := newConsoleView(cfg.MQTT.TopicEvents, out)
	if err := client.Subscribe(cfg.MQTT.TopicEvents+"/+", 0, view.handleEvent); err != nil {
		return err
	}
	if err := client.Subscribe(cfg.MQTT.TopicGPS, 0, view.handleFix); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("console: shutting down")
	return nil
}
