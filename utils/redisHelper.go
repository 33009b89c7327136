package utils

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mmdatafocus/crm_backend/config"
)

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	typeOfT := reflect.TypeOf(v)
	return typeOfT.Name()
}

/* Redis */

// cache lifespan per model. Deal reads are dashboard-facing and may be a few
// minutes stale. Pipeline lists get a bounded TTL so writers that bypass the
// API (seeding, manual SQL) age out; everything else lives until invalidated.
func typeCacheLifespan(typeName string) time.Duration {
	switch typeName {
	case "Deal":
		return config.DealCacheLifespan()
	case "Pipeline":
		return time.Hour
	default:
		return 0
	}
}

// store instance, obj should be a pointer
func StoreRedis[T any](obj any, id int) error {
	typeName := GetTypeName[T]()
	key := typeName + ":" + fmt.Sprint(id)
	return config.SetRedisObject(key, &obj, typeCacheLifespan(typeName))
}

// store list, TypeList:$business_id
func StoreRedisList[T any](obj any, businessId string) error {
	typeName := GetTypeName[T]()
	var key string
	if businessId == "" {
		key = typeName + "List"
	} else {
		key = typeName + "List:" + businessId
	}
	return config.SetRedisObject(key, &obj, typeCacheLifespan(typeName))
}

// get from redis
// returns nil if does not exist
func RetrieveRedis[T any](id int) (*T, error) {
	var result *T
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// retrieve a list.
// businessId can be empty
func RetrieveRedisList[T any](businessId string) ([]*T, error) {
	var key string
	if businessId == "" {
		key = GetTypeName[T]() + "List"
	} else {
		key = GetTypeName[T]() + "List:" + businessId
	}

	var result []*T
	exists, err := config.GetRedisObject(key, &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

// clear list, TypeList:$business_id
func RemoveRedisList[T any](businessId string) error {
	var key string = GetTypeName[T]() + "List:" + businessId
	return config.RemoveRedisKey(key)
}

// remove an instance, Type:$id
func RemoveRedisItem[T any](id int) error {
	key := GetTypeName[T]() + ":" + fmt.Sprint(id)
	return config.RemoveRedisKey(key)
}
