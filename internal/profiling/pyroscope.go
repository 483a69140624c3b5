package profiling

import (
	"fmt"

	pyroscope "github.com/grafana/pyroscope-go"
	"go.uber.org/zap"
)

// Start attaches the process to a Pyroscope server. An empty address disables
// profiling and returns a no-op stop function.
func Start(app, serverAddress, environment string, logger *zap.Logger) (func(), error) {
	if serverAddress == "" {
		return func() {}, nil
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: app,
		ServerAddress:   serverAddress,
		Tags: map[string]string{
			"env": environment,
		},
		Logger: zapAdapter{logger.Sugar()},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pyroscope start failed: %w", err)
	}

	return func() {
		_ = profiler.Stop()
	}, nil
}

type zapAdapter struct {
	s *zap.SugaredLogger
}

func (a zapAdapter) Infof(format string, args ...interface{})  { a.s.Infof(format, args...) }
func (a zapAdapter) Debugf(format string, args ...interface{}) { a.s.Debugf(format, args...) }
func (a zapAdapter) Errorf(format string, args ...interface{}) { a.s.Errorf(format, args...) }
