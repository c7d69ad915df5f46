package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Yating05/contact-graspnet/src/commons"
	datastructures "github.com/Yating05/contact-graspnet/src/datastructures"
	"github.com/garyburd/redigo/redis"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	log "github.com/sirupsen/logrus"
)

var meshExtensions = map[string]bool{".obj": true, ".stl": true, ".off": true}

func setCorsHeaders(c *gin.Context) {
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
	c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Requested-With, X-PINGOTHER, X-File-Name, Cache-Control")
	c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")
}

func newRouter(redisPool *redis.Pool, meshesDir string) *gin.Engine {
	router := gin.Default()

	router.OPTIONS("/v1/grasp", func(c *gin.Context) {
		setCorsHeaders(c)
		c.JSON(http.StatusOK, struct{}{})
	})

	router.POST("/v1/grasp", func(c *gin.Context) {
		setCorsHeaders(c)
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Location")

		id, err := uuid.NewV4()
		if err != nil {
			log.Debug("[Grasping] Couldn't create uuid: ", err.Error())
			c.JSON(500, gin.H{"error": "Couldn't accept request - please try again later"})
			return
		}

		var graspRequest datastructures.GraspRequest
		graspRequest.Uuid = id.String()
		graspRequest.Created = time.Now().Unix()
		graspRequest.Object = c.PostForm("object")

		if graspRequest.Object == "" {
			header, err := c.FormFile("mesh")
			if err != nil {
				c.JSON(400, gin.H{"error": "Either an object name or a mesh is required"})
				return
			}
			ext := strings.ToLower(filepath.Ext(header.Filename))
			if !meshExtensions[ext] {
				c.JSON(400, gin.H{"error": "Mesh has to be an .obj, .stl or .off file"})
				return
			}
			graspRequest.Filename = filepath.Join(meshesDir, graspRequest.Uuid+ext)
			if err := c.SaveUploadedFile(header, graspRequest.Filename); err != nil {
				log.Debug("[Grasping] Couldn't save mesh: ", err.Error())
				c.JSON(500, gin.H{"error": "Couldn't accept request - please try again later"})
				return
			}
		}

		serialized, err := json.Marshal(graspRequest)
		if err != nil {
			log.Debug("[Grasping] Couldn't accept request: ", err.Error())
			c.JSON(500, gin.H{"error": "Couldn't accept request - please try again later"})
			return
		}

		redisConn := redisPool.Get()
		defer redisConn.Close()

		//add a grasp request to the REDIS 'graspme' queue
		_, err = redisConn.Do("RPUSH", commons.GraspQueue, serialized)
		if err != nil {
			log.Debug("[Grasping] Couldn't accept request: ", err.Error())
			c.JSON(500, gin.H{"error": "Couldn't accept request - please try again later"})
			return
		}

		c.Writer.Header().Set("Location", graspRequest.Uuid)
		c.JSON(202, gin.H{})
	})

	router.GET("/v1/grasp/:uuid", func(c *gin.Context) {
		setCorsHeaders(c)

		key := commons.ResultKey(c.Param("uuid"))

		redisConn := redisPool.Get()
		defer redisConn.Close()

		exists, err := redis.Bool(redisConn.Do("EXISTS", key))
		if err != nil {
			log.Debug("[Grasping] Couldn't check status of request: ", err.Error())
			c.JSON(500, gin.H{"error": "Couldn't check status of request - please try again later"})
			return
		}

		// Either the uuid is wrong or processing isn't finished, the
		// client doesn't need to know which.
		if !exists {
			c.JSON(200, gin.H{})
			return
		}

		data, err := redis.Bytes(redisConn.Do("GET", key))
		if err != nil {
			log.Debug("[Grasping] Couldn't get status of request: ", err.Error())
			c.JSON(500, gin.H{"error": "Couldn't get status of request - please try again later"})
			return
		}

		var graspResult datastructures.GraspResult
		if err := json.Unmarshal(data, &graspResult); err != nil {
			log.Debug("[Grasping] Couldn't unmarshal: ", err.Error())
			c.JSON(500, gin.H{"error": "Couldn't get status of request - please try again later"})
			return
		}

		c.JSON(http.StatusOK, datastructures.GraspMeResult{
			Found:     graspResult.Result.Found,
			Pose:      graspResult.Result.Grasp.Pose,
			Score:     graspResult.Result.Grasp.Score,
			Error:     graspResult.Error,
			ModelInfo: graspResult.ModelInfo,
		})
	})

	return router
}

func main() {
	releaseMode := flag.Bool("release", false, "Run in release mode")
	redisAddress := flag.String("redis-address", ":6379", "Address to the Redis server")
	redisMaxConnections := flag.Int("redis-max-connections", 50, "Max connections to Redis")
	meshesDir := flag.String("meshes-dir", "../meshes/", "Location of the temporary saved meshes for grasp requests")
	listen := flag.String("listen", ":8081", "Address to listen on")
	logLevel := flag.String("log-level", "debug", "Log level")
	sentryDSN := flag.String("sentry-dsn", "", "Report errors to this Sentry DSN")

	flag.Parse()
	if err := commons.SetupLogging(*logLevel, *sentryDSN); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
	if *releaseMode {
		fmt.Printf("[Main] Starting gin in release mode!\n")
		gin.SetMode(gin.ReleaseMode)
	}

	//uploaded meshes are temporary, the directory might be gone after a reboot
	if _, err := os.Stat(*meshesDir); os.IsNotExist(err) {
		log.Debug("[Main] Creating directory for meshes as it doesn't exist")
		if err := os.MkdirAll(*meshesDir, 0755); err != nil {
			log.Debug("[Main] Couldn't create directory: ", err.Error())
			os.Exit(1)
		}
	}

	redisPool := commons.NewRedisPool(*redisAddress, *redisMaxConnections)
	defer redisPool.Close()

	router := newRouter(redisPool, *meshesDir)
	if err := router.Run(*listen); err != nil {
		log.Error("[Main] ", err.Error())
	}
}
