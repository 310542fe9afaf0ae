package barrier

// SharedGroupCount returns how many names have a shared group.
func SharedGroupCount(b *Barriers) int {
	return b.shared.Size()
}
