// Command agentgraph runs the single-run agent strategy against an
// OpenAI-compatible model and inspects stored checkpoints.
package main

func main() {
	Execute()
}
