package domain

// Container is a container as reported by the runtime when listing managed containers.
type Container struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Image  string `json:"image"`
	Status string `json:"status"`
	State  string `json:"state"` // running, exited, etc.
}

// ContainerSpec is what the core asks the runtime to create.
// Ports maps a container port such as "5432/tcp" to the requested host port (0 = any free port).
type ContainerSpec struct {
	Image      string
	Env        map[string]string
	Ports      map[string]int
	Labels     map[string]string
	AutoRemove bool
}

// ContainerState is the live state of a container, read from the runtime at call time.
type ContainerState struct {
	ID      string
	Name    string
	Running bool
	Ports   map[string]int
}
