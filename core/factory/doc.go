// Package factory provides a small generic registry used to instantiate
// backends from configuration. A backend is selected by a type string and a
// map of raw settings; factories decode the settings into typed structs and
// return the concrete implementation.
//
// Example usage:
//
//	reg := factory.NewRegistry[store.StateStore]()
//	reg.Register("json", func(conf map[string]any) (store.StateStore, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return NewFileStore(c.Path)
//	})
//	s, err := reg.Create(factory.ModuleConfig{Type: "json", Conf: map[string]any{"path": "state.json"}})
package factory
