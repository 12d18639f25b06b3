package gwconfig

import (
	"bufio"
	"os"
	"strings"
)

// ContainerName returns a short identifier for the container this process
// is running in, read from the cgroup path under Linux (generalizing the
// original's docker-API container lookup, which required a full Docker
// client this pack has no grounded Go equivalent for). Falls back to
// $HOSTNAME, matching the original's fallback when container inspection
// fails.
func ContainerName() (string, error) {
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return os.Getenv("HOSTNAME"), nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		parts := strings.SplitN(line, ":", 3)
		if len(parts) != 3 {
			continue
		}
		path := parts[2]
		idx := strings.LastIndex(path, "/")
		if idx == -1 {
			continue
		}
		id := path[idx+1:]
		if len(id) >= 12 {
			return id[:12], nil
		}
	}
	return os.Getenv("HOSTNAME"), nil
}
