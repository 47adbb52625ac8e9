// Package config loads the daemon configuration from a JSON file and fills
// in defaults for anything the operator left out. Paths to the model, prompt
// and chain definition files are resolved relative to the config file.
package config
