// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/invowk/nodefleet/cmd/nodefleet"

func main() {
	cmd.Execute()
}
