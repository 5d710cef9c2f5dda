// Package stage composes traced commands into the two verification
// templates.
//
// A library stage clones a repository into the workspace root, configures it
// with the build generator (source Root/Dir, output Root/Dir/BuildDir, plus
// the configured flags), builds it, runs its test target and installs it.
//
// An executable stage clones a consumer project, initialises its submodules
// recursively, configures and builds it, then runs the resulting program from
// the build directory. Whether it builds against a fresh in-tree library or
// an installed one is decided purely by the flags it is given, for example
// -DCMAKE_PREFIX_PATH pointing at an install directory.
//
// Steps run strictly one after another. The first command that fails ends
// the stage with a *runner.CommandError; later steps never run.
package stage
