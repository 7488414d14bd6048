package main

import "github.com/andresmejia3/facelab/cmd"

func main() {
	cmd.Execute()
}
