package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/step_computer/internal/config"
	"github.com/relabs-tech/step_computer/internal/detector"
	"github.com/relabs-tech/step_computer/internal/gps"
	"github.com/relabs-tech/step_computer/internal/mqtt"
	"github.com/relabs-tech/step_computer/internal/session"
)

const (
	displayWidth  = 128
	displayHeight = 64
	lineHeight    = 13
)

type sessionView struct {
	ID    string
	Steps int
	Phase detector.Phase
}

// stepBoard holds the latest state per session, fed from the events topic.
type stepBoard struct {
	eventsTopic string

	mu       sync.RWMutex
	sessions map[string]sessionView
	fix      *gps.Fix
}

func newStepBoard(eventsTopic string) *stepBoard {
	return &stepBoard{eventsTopic: eventsTopic, sessions: map[string]sessionView{}}
}

func (b *stepBoard) handleEvent(topic string, payload []byte) error {
	var res session.Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return fmt.Errorf("display: event unmarshal: %w", err)
	}
	id := strings.TrimPrefix(topic, b.eventsTopic+"/")

	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.sessions[id]
	v.ID = id
	v.Steps = res.StepCount
	switch {
	case res.StepStart:
		v.Phase = detector.PhaseInStep
	case res.StepEnd:
		v.Phase = detector.PhaseIdle
	}
	b.sessions[id] = v
	return nil
}

func (b *stepBoard) handleFix(_ string, payload []byte) error {
	var fix gps.Fix
	if err := json.Unmarshal(payload, &fix); err != nil {
		return fmt.Errorf("display: fix unmarshal: %w", err)
	}
	b.mu.Lock()
	b.fix = &fix
	b.mu.Unlock()
	return nil
}

// snapshot returns sessions sorted by id and a copy of the last fix.
func (b *stepBoard) snapshot() ([]sessionView, *gps.Fix) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]sessionView, 0, len(b.sessions))
	for _, v := range b.sessions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	var fix *gps.Fix
	if b.fix != nil {
		f := *b.fix
		fix = &f
	}
	return out, fix
}

// renderBoard draws up to three sessions and a GPS status line.
func renderBoard(sessions []sessionView, fix *gps.Fix) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, displayWidth, displayHeight))
	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	line := func(row int, s string) {
		drawer.Dot = fixed.P(0, lineHeight*(row+1))
		drawer.DrawString(s)
	}

	if len(sessions) == 0 {
		line(1, "Steps")
		line(2, "Waiting...")
		return img
	}

	for i, v := range sessions {
		if i == 3 {
			break
		}
		mark := " "
		if v.Phase == detector.PhaseInStep {
			mark = "*"
		}
		line(i, fmt.Sprintf("%-8.8s%s%6d", v.ID, mark, v.Steps))
	}

	gpsLine := "GPS: --"
	if fix != nil && fix.Valid() {
		gpsLine = fmt.Sprintf("%.3f %.3f", fix.Latitude, fix.Longitude)
	}
	line(3, gpsLine)
	return img
}

// RunDisplay renders step counts on an SSD1306 OLED until ctx is done.
func RunDisplay(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	log = log.With(zap.String("component", "display"))

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}
	bus, err := i2creg.Open(cfg.Display.I2CBus)
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer bus.Close()

	dev, err := ssd1306.NewI2C(bus, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Info("display initialized", zap.String("bus", bus.String()))

	board := newStepBoard(cfg.MQTT.TopicEvents)
	if err := dev.Draw(dev.Bounds(), renderBoard(nil, nil), image.Point{}); err != nil {
		log.Warn("error drawing splash", zap.Error(err))
	}

	client, err := mqtt.Connect(mqtt.Options{Broker: cfg.MQTT.Broker, ClientID: cfg.MQTT.ClientIDDisplay}, log)
	if err != nil {
		return err
	}
	defer client.Disconnect()
	if err := client.Subscribe(cfg.MQTT.TopicEvents+"/+", 0, board.handleEvent); err != nil {
		return err
	}
	if err := client.Subscribe(cfg.MQTT.TopicGPS, 0, board.handleFix); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.Display.UpdateInterval())
	defer ticker.Stop()
	log.Info("starting update loop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		sessions, fix := board.snapshot()
		if err := dev.Draw(dev.Bounds(), renderBoard(sessions, fix), image.Point{}); err != nil {
			log.Warn("error updating display", zap.Error(err))
		}
	}
}
