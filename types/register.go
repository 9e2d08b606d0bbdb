package types

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// defaultTensorShape is the shape used for the registry instance of the
// tensor type. Deserialize rebuilds the real shape from IPC metadata, so
// the registered instance only serves as the lookup prototype.
var defaultTensorShape = ImageShape{Height: 1, Width: 1, Channels: 1}

func registryTypes() []arrow.ExtensionType {
	return []arrow.ExtensionType{
		NewBFloat16Type(),
		NewImageURIType(),
		NewEncodedImageType(),
		MustFixedShapeImageTensorType(defaultTensorShape),
	}
}

// RegisterAll registers every extension type in this package with the
// arrow-go registry so IPC readers reconstruct them from metadata.
// Registering an already registered name is an error; use UnregisterAll
// between test runs.
func RegisterAll() error {
	var registered []arrow.ExtensionType
	for _, t := range registryTypes() {
		if err := arrow.RegisterExtensionType(t); err != nil {
			for _, r := range registered {
				_ = arrow.UnregisterExtensionType(r.ExtensionName())
			}
			return fmt.Errorf("failed to register %s: %w", t.ExtensionName(), err)
		}
		registered = append(registered, t)
	}
	return nil
}

// UnregisterAll removes every extension type in this package from the
// arrow-go registry. Unknown names are ignored.
func UnregisterAll() {
	for _, t := range registryTypes() {
		_ = arrow.UnregisterExtensionType(t.ExtensionName())
	}
}
