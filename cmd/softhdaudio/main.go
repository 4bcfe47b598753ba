package main

import "github.com/dni1337/softhdaudio"

func main() {
	softhdaudio.Main()
}
