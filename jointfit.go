// Public domain.

package main

import "github.com/soniakeys/jointfit/internal/jfprog"

func main() {
	jfprog.Main()
}
