package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/cursor"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/derived"
	"github.com/resetting-eu/Crowding-Visualization-STToolkit/pkg/fusion"
)

// SourceConfig selects an upstream source kind and its parameters, as
// accepted by adapters.New.
type SourceConfig struct {
	Kind   string            `yaml:"kind"`
	Params map[string]string `yaml:"params"`
}

// Endpoint configures one data endpoint. Fields that do not apply to an
// endpoint's role are ignored.
type Endpoint struct {
	Source SourceConfig `yaml:"source"`
	// Interval is the upstream step.
	Interval Duration `yaml:"interval"`
	// Derived maps a derived metric name to its expression.
	Derived map[string]string `yaml:"derived"`

	// live
	InitialOffset Duration `yaml:"initialOffset"`
	MaxBufferSize int      `yaml:"maxBufferSize"`
	Consistency   string   `yaml:"consistency"`
	ClientTTL     Duration `yaml:"clientTTL"`

	// history
	MaxRange Duration `yaml:"maxRange"`

	// forecast
	Refresh       Duration           `yaml:"refresh"`
	Lookback      Duration           `yaml:"lookback"`
	Metric        string             `yaml:"metric"`
	Model         string             `yaml:"model"`
	ModelEndpoint string             `yaml:"modelEndpoint"`
	ModelParams   map[string]float64 `yaml:"modelParams"`
	NSimulations  int                `yaml:"nSimulations"`
	MinSteps      int                `yaml:"minSteps"`
	OutputLength  int                `yaml:"outputLength"`
	MinHistory    int                `yaml:"minHistory"`
	MaxGap        Duration           `yaml:"maxGap"`
	Parallelism   int                `yaml:"parallelism"`
}

// Endpoints is the endpoints file. Each endpoint is optional, but at least
// one must be present.
type Endpoints struct {
	Live     *Endpoint `yaml:"live"`
	History  *Endpoint `yaml:"history"`
	Forecast *Endpoint `yaml:"forecast"`
}

// LoadEndpoints reads, defaults and validates the endpoints file at path.
func LoadEndpoints(path string) (*Endpoints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	return ParseEndpoints(data)
}

// ParseEndpoints decodes an endpoints document.
func ParseEndpoints(data []byte) (*Endpoints, error) {
	var eps Endpoints
	if err := yaml.Unmarshal(data, &eps); err != nil {
		return nil, fmt.Errorf("parse endpoints file: %w", err)
	}
	if eps.Live == nil && eps.History == nil && eps.Forecast == nil {
		return nil, errors.New("endpoints file declares no endpoint (expected live, history or forecast)")
	}

	var errs []error
	if eps.Live != nil {
		errs = append(errs, eps.Live.validateLive())
	}
	if eps.History != nil {
		errs = append(errs, eps.History.validateHistory())
	}
	if eps.Forecast != nil {
		errs = append(errs, eps.Forecast.validateForecast())
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &eps, nil
}

func (e *Endpoint) validateCommon(name string) error {
	if e.Source.Kind == "" {
		return fmt.Errorf("endpoint %q: source.kind is required", name)
	}
	if e.Interval == 0 {
		e.Interval = Duration(time.Hour)
	}
	if e.Interval < 0 {
		return fmt.Errorf("endpoint %q: interval must be > 0", name)
	}
	if _, err := derived.Compile(e.Derived); err != nil {
		return fmt.Errorf("endpoint %q: %w", name, err)
	}
	return nil
}

func (e *Endpoint) validateLive() error {
	if err := e.validateCommon("live"); err != nil {
		return err
	}
	if e.InitialOffset == 0 {
		e.InitialOffset = Duration(24 * time.Hour)
	}
	if e.InitialOffset < 0 {
		return errors.New(`endpoint "live": initialOffset must be > 0`)
	}
	if e.MaxBufferSize < 0 {
		return errors.New(`endpoint "live": maxBufferSize cannot be negative`)
	}
	if e.ClientTTL == 0 {
		e.ClientTTL = Duration(24 * time.Hour)
	}
	if _, err := cursor.ParsePolicy(e.Consistency); err != nil {
		return fmt.Errorf(`endpoint "live": %w`, err)
	}
	return nil
}

func (e *Endpoint) validateHistory() error {
	if err := e.validateCommon("history"); err != nil {
		return err
	}
	if e.MaxRange < 0 {
		return errors.New(`endpoint "history": maxRange cannot be negative`)
	}
	return nil
}

func (e *Endpoint) validateForecast() error {
	if err := e.validateCommon("forecast"); err != nil {
		return err
	}
	def := fusion.DefaultConfig()
	if e.Metric == "" {
		e.Metric = def.Metric
	}
	if e.Refresh == 0 {
		e.Refresh = Duration(5 * time.Minute)
	}
	if e.Lookback == 0 {
		e.Lookback = Duration(7 * 24 * time.Hour)
	}
	if e.Model == "" {
		e.Model = "sarima"
	}
	if e.NSimulations == 0 {
		e.NSimulations = 1000
	}
	if e.MinSteps == 0 {
		e.MinSteps = def.MinSteps
	}
	if e.OutputLength == 0 {
		e.OutputLength = def.OutputLength
	}
	if e.MinHistory == 0 {
		e.MinHistory = def.MinHistory
	}
	if e.MaxGap == 0 {
		e.MaxGap = Duration(def.MaxGap)
	}
	if e.Parallelism == 0 {
		e.Parallelism = 4
	}
	if e.ClientTTL == 0 {
		e.ClientTTL = Duration(24 * time.Hour)
	}

	switch {
	case e.Refresh < 0:
		return errors.New(`endpoint "forecast": refresh must be > 0`)
	case e.Lookback < 0:
		return errors.New(`endpoint "forecast": lookback must be > 0`)
	case e.NSimulations < 0:
		return errors.New(`endpoint "forecast": nSimulations must be > 0`)
	case e.Parallelism < 0:
		return errors.New(`endpoint "forecast": parallelism must be > 0`)
	}
	switch e.Model {
	case "sarima", "arima":
	case "byom":
		if e.ModelEndpoint == "" {
			return errors.New(`endpoint "forecast": modelEndpoint is required when model=byom`)
		}
	default:
		return fmt.Errorf(`endpoint "forecast": invalid model %q (must be sarima, arima or byom)`, e.Model)
	}
	if err := e.Fusion().Validate(); err != nil {
		return fmt.Errorf(`endpoint "forecast": %w`, err)
	}
	return nil
}

// Fusion returns the fusion settings of a forecast endpoint.
func (e *Endpoint) Fusion() fusion.Config {
	return fusion.Config{
		Metric:       e.Metric,
		Interval:     e.Interval.D(),
		MinSteps:     e.MinSteps,
		OutputLength: e.OutputLength,
		MinHistory:   e.MinHistory,
		MaxGap:       e.MaxGap.D(),
	}
}

// Cursor returns the cursor store settings of a live endpoint.
func (e *Endpoint) Cursor() cursor.Config {
	policy, _ := cursor.ParsePolicy(e.Consistency)
	return cursor.Config{
		Interval:      e.Interval.D(),
		InitialOffset: e.InitialOffset.D(),
		MaxBufferSize: e.MaxBufferSize,
		Policy:        policy,
		TTL:           e.ClientTTL.D(),
	}
}

// StepSeconds returns the interval in whole seconds.
func (e *Endpoint) StepSeconds() int {
	return int(e.Interval.D() / time.Second)
}
