package reporter

import (
	"os"
	"runtime"
	"strings"

	"github.com/perfgo/flakiness/model"
)

// DefaultEnvPrefix selects the environment variables copied into the
// environment metadata.
const DefaultEnvPrefix = "FK_ENV_"

const runtimeVersionKey = "go_version"

// buildEnvironment describes the current host. Variables starting with
// prefix are copied with the prefix removed and the rest lower-cased.
func buildEnvironment(name, prefix string, environ []string) model.Environment {
	data := map[string]string{}
	if prefix != "" {
		for _, kv := range environ {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || !strings.HasPrefix(key, prefix) {
				continue
			}
			suffix := strings.ToLower(strings.TrimPrefix(key, prefix))
			if suffix == "" {
				continue
			}
			data[suffix] = value
		}
	}
	data[runtimeVersionKey] = runtime.Version()

	return model.Environment{
		Name:             name,
		SystemData:       systemData(),
		UserSuppliedData: data,
	}
}

func fallbackSystemData() *model.SystemData {
	name := runtime.GOOS
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return &model.SystemData{
		OSName: name,
		OSArch: runtime.GOARCH,
	}
}

func defaultEnviron() []string {
	return os.Environ()
}
