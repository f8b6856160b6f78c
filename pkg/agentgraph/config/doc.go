/*
Package config loads agentgraph settings.

Settings is the typed run configuration: strategy limits, the model client,
the checkpoint backend, logging and telemetry. It is decoded with
mapstructure from a Source, the untyped tree read from a YAML or JSON file,
and validated with go-playground/validator.

	settings, err := config.LoadSettings("agentgraph.yaml")
	if err != nil {
	    log.Fatal(err)
	}
	fmt.Println(settings.Strategy.MaxIterations, settings.Checkpoint.Backend)

Environment variables prefixed with AGENTGRAPH_ override file values.
Nested keys join with a double underscore:

	AGENTGRAPH_STRATEGY__MAX_ITERATIONS=50
	AGENTGRAPH_CHECKPOINT__BACKEND=sqlite

Unknown keys in the file are rejected. Durations accept time.ParseDuration
syntax ("30s").
*/
package config
