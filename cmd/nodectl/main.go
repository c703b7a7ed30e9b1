// Command nodectl drives a broker from the node side: registering nodes,
// heartbeating, binding user sessions and transferring domain authority.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
