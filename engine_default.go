//go:build !darwin && !linux

package webcodecs

// defaultEngineFactory on platforms without the purego binding always
// uses the helper process.
func defaultEngineFactory() EngineFactory {
	return processEngineFactoryFromEnv()
}
