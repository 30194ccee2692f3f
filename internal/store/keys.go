package store

import "sync"

// Key layout:
//
//	product:{id}                          -> Product JSON
//	product:idx:barcode:{barcode}         -> product id
//	ingredient:{id}                       -> Ingredient JSON
//	ingredient:idx:name:{lower(name)}     -> ingredient id
//	link:product:{productID}:{ingID}      -> empty
//	link:ingredient:{ingID}:{productID}   -> empty
const (
	productPrefix        = "product:"
	ingredientPrefix     = "ingredient:"
	linkByProductPrefix  = "link:product:"
	linkByIngredientPref = "link:ingredient:"
	indexSegment         = "idx:"
)

// keyPool provides reusable byte slices for building database keys.
var keyPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 128)
	},
}

// buildKey joins parts into a pooled buffer. Callers must call releaseKey when done.
func buildKey(parts ...string) []byte {
	buf, _ := keyPool.Get().([]byte)
	buf = buf[:0]
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// releaseKey returns a key buffer to the pool. The slice must not be used afterwards.
func releaseKey(key []byte) {
	if cap(key) <= 512 {
		keyPool.Put(key[:0]) //nolint:staticcheck // slice header allocation is fine here
	}
}

func indexKey(prefix, name, value string) string {
	return prefix + indexSegment + name + ":" + value
}

func productLinkKey(productID, ingredientID string) []byte {
	return []byte(linkByProductPrefix + productID + ":" + ingredientID)
}

func ingredientLinkKey(ingredientID, productID string) []byte {
	return []byte(linkByIngredientPref + ingredientID + ":" + productID)
}
