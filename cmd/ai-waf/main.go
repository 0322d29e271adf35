// Command ai-waf runs the AI WAF security gateway.
package main

import "github.com/Sentinel-Gate/aiwaf/cmd/ai-waf/cmd"

func main() {
	cmd.Execute()
}
