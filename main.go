package main

import "github.com/nhantruonghcmut/uitf/cmd"

func main() {
	cmd.Execute()
}
