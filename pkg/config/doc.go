// Package config loads and validates the capdverify configuration.
//
// A configuration names the library repository, the downstream example
// projects, optional build variants and the project-starter flows, together
// with the workspace, the run store and telemetry settings.
//
// # Formats
//
// Files ending in .cue are evaluated with CUE; every other file is parsed as
// YAML. In both cases the file is decoded on top of Default, so a file only
// needs the settings it changes.
//
// # Validation
//
// Validate runs three passes and reports every problem it finds as a
// ValidationErrors value:
//
//   - struct tags checked with go-playground/validator
//   - the built-in #Config CUE schema held by a SchemaRegistry
//   - cross-field rules such as unique example names and directories
//
// # Usage Example
//
//	cfg, err := config.Load("capdverify.yaml")
//	if err != nil {
//	    if ve, ok := config.AsValidationErrors(err); ok {
//	        for _, p := range ve {
//	            fmt.Println(p)
//	        }
//	    }
//	    return err
//	}
package config
