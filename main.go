package main

import "PIIReview/cmd"

func main() {
	cmd.Execute()
}
