package neighbors

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"path/filepath"
	"sync"
)

const jsonNeighborSetPath = "neighbors.json"

// JSONNeighborSet provides neighbor provisioning on disk in the form of a JSON
// file. It maps the identities the tunnel manager establishes (WireGuard key,
// mesh IP) to payment addresses.
type JSONNeighborSet struct {
	l    sync.Mutex
	path string
}

// NewJSONNeighborSet creates a new JSONNeighborSet with reference to a base
// directory where the JSON file resides.
func NewJSONNeighborSet(base string) *JSONNeighborSet {
	return &JSONNeighborSet{
		path: filepath.Join(base, jsonNeighborSetPath),
	}
}

// Neighbors parses the underlying JSON file and returns the corresponding
// records.
func (j *JSONNeighborSet) Neighbors() ([]*Neighbor, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := ioutil.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	if len(buf) == 0 {
		return nil, nil
	}

	var res []*Neighbor
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&res); err != nil {
		return nil, err
	}

	for _, n := range res {
		n.computeID()
		n.State = Discovered
	}

	return res, nil
}

// Write persists neighbor records to the JSON file.
func (j *JSONNeighborSet) Write(ns []*Neighbor) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(ns); err != nil {
		return err
	}

	return ioutil.WriteFile(j.path, buf.Bytes(), 0755)
}
