package audio

// Drain reads from ch until it is closed, discarding all values. Use it to
// release a producer goroutine whose output is no longer needed, such as a
// TTS audio channel after playback was interrupted.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
