package baseplate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigSliceEnabledDefaultsTrue(t *testing.T) {
	require.True(t, ConfigSlice{}.Enabled())
}

func TestConfigSliceEnabledCoercesValues(t *testing.T) {
	require.True(t, ConfigSlice{"enabled": true}.Enabled())
	require.False(t, ConfigSlice{"enabled": false}.Enabled())
	require.False(t, ConfigSlice{"enabled": "false"}.Enabled())
	require.True(t, ConfigSlice{"enabled": "true"}.Enabled())
	require.False(t, ConfigSlice{"enabled": 0}.Enabled())
	require.True(t, ConfigSlice{"enabled": 1}.Enabled())
}

func TestConfigSliceEnabledUnparsableValueDefaultsTrue(t *testing.T) {
	require.True(t, ConfigSlice{"enabled": []string{"not", "a", "bool"}}.Enabled())
}

func TestBaseModuleDefaultHealthReport(t *testing.T) {
	m := NewBaseModule("widget")
	report := m.DefaultHealthReport()
	require.False(t, report.Healthy)
	require.Equal(t, "stopped", report.Status)

	m.MarkStarted()
	require.True(t, m.Running())
	report = m.DefaultHealthReport()
	require.True(t, report.Healthy)
	require.Equal(t, "running", report.Status)

	m.MarkStopped()
	require.False(t, m.Running())
}

func TestBaseModuleSystemCheckDelegatesToDefaultHealthReport(t *testing.T) {
	m := NewBaseModule("widget")
	m.MarkStarted()

	report, err := m.SystemCheck(context.Background())
	require.NoError(t, err)
	require.True(t, report.Healthy)
	require.Equal(t, "running", report.Status)
}

func TestFactoryFuncAdaptsConstructor(t *testing.T) {
	desc := ModuleDescriptor{Name: "widget", Version: "1.0.0"}
	built := false
	factory := FactoryFunc{
		Descriptor: desc,
		Constructor: func(bus *MessageBus, cfg ConfigSlice) (ModuleInstance, error) {
			built = true
			return nil, nil
		},
	}

	require.Equal(t, desc, factory.Describe())
	_, err := factory.New(nil, nil)
	require.NoError(t, err)
	require.True(t, built)
}
