package file_store

import (
	"encoding/json"
)

// EncodeCatalog renders the records as the JSON array sent in FilesInfo frames,
// e.g. [{"file_name":"a.txt","file_size":5}]. A nil slice encodes as [].
func EncodeCatalog(records []FileRecord) ([]byte, error) {

	if records == nil {
		records = []FileRecord{}
	}

	return json.Marshal(records)
}

func DecodeCatalog(data []byte) ([]FileRecord, error) {

	records := []FileRecord{}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	return records, nil
}

// Catalog lists the store and encodes the result in one step.
func (fs *Store) Catalog() ([]byte, error) {

	records, err := fs.List()
	if err != nil {
		return nil, err
	}

	return EncodeCatalog(records)
}
