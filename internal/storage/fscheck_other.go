//go:build !darwin && !linux

package storage

func statfsKind(string) (fsKind, error) {
	return fsKind{}, errNoProbe
}
