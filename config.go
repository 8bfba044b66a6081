package irvm

import (
	"fmt"
	"os"

	"github.com/mstoykov/envconfig"
	"github.com/sirupsen/logrus"
)

const (
	defaultCodeRegionSize = 64 << 20
	defaultStackSize      = 1 << 20
)

// EngineConfig controls engine behavior, with the default implementation as NewEngineConfig.
type EngineConfig struct {
	codeRegionSize int
	stackSize      int
	maxMethodSize  int
	logger         logrus.FieldLogger
}

// NewEngineConfig returns the default configuration: a 64MiB code region, 1MiB stacks, no
// limit on the size of one method, and no logging.
func NewEngineConfig() *EngineConfig {
	return &EngineConfig{
		codeRegionSize: defaultCodeRegionSize,
		stackSize:      defaultStackSize,
	}
}

// clone ensures all fields are copied even if nil.
func (c *EngineConfig) clone() *EngineConfig {
	ret := *c
	return &ret
}

// WithCodeRegionSize sets the size of the executable region all compiled methods share.
// Adding a method once the region is exhausted panics.
func (c *EngineConfig) WithCodeRegionSize(size int) *EngineConfig {
	ret := c.clone()
	ret.codeRegionSize = size
	return ret
}

// WithStackSize sets the size of the stacks returned by Engine.NewStack. It must be a
// multiple of 16.
func (c *EngineConfig) WithStackSize(size int) *EngineConfig {
	ret := c.clone()
	ret.stackSize = size
	return ret
}

// WithMaxMethodSize limits the native code size of one compiled method. Zero means no limit.
func (c *EngineConfig) WithMaxMethodSize(size int) *EngineConfig {
	ret := c.clone()
	ret.maxMethodSize = size
	return ret
}

// WithLogger sets the logger of the engine. Method installation and VM exits are logged at
// the debug level, and listings of compiled methods too when the logger is at trace level.
func (c *EngineConfig) WithLogger(logger logrus.FieldLogger) *EngineConfig {
	ret := c.clone()
	ret.logger = logger
	return ret
}

// envConfig is the configuration read from the environment. Unset or zero values keep
// the defaults.
type envConfig struct {
	CodeRegionSize int    `envconfig:"IRVM_CODE_REGION_SIZE"`
	StackSize      int    `envconfig:"IRVM_STACK_SIZE"`
	MaxMethodSize  int    `envconfig:"IRVM_MAX_METHOD_SIZE"`
	LogLevel       string `envconfig:"IRVM_LOG_LEVEL"`
}

// ConfigFromEnv returns the default configuration overridden by the IRVM_CODE_REGION_SIZE,
// IRVM_STACK_SIZE, IRVM_MAX_METHOD_SIZE and IRVM_LOG_LEVEL variables. Setting
// IRVM_LOG_LEVEL logs to stderr at that level.
//
// lookupEnv defaults to os.LookupEnv when nil.
func ConfigFromEnv(lookupEnv func(key string) (string, bool)) (*EngineConfig, error) {
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}
	var env envConfig
	if err := envconfig.Process("", &env, lookupEnv); err != nil {
		return nil, fmt.Errorf("reading the environment: %w", err)
	}

	ret := NewEngineConfig()
	if env.CodeRegionSize != 0 {
		ret = ret.WithCodeRegionSize(env.CodeRegionSize)
	}
	if env.StackSize != 0 {
		ret = ret.WithStackSize(env.StackSize)
	}
	if env.MaxMethodSize != 0 {
		ret = ret.WithMaxMethodSize(env.MaxMethodSize)
	}
	if env.LogLevel != "" {
		level, err := logrus.ParseLevel(env.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("IRVM_LOG_LEVEL: %w", err)
		}
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(level)
		ret = ret.WithLogger(l)
	}
	return ret, nil
}
